package main

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"lsmkv/internal/common"
	"lsmkv/internal/db"
)

// seedIndexKey stores the next seed round so that keys stay unique across
// sessions.
const seedIndexKey = "__cli_seed_index__"

func loadSeedIndex(engine *db.DB) int {
	entry, err := engine.Get([]byte(seedIndexKey))
	if err != nil {
		return 0
	}
	idx, err := strconv.Atoi(string(entry.Value))
	if err != nil {
		return 0
	}
	fmt.Printf("resumed seed index from %d\n", idx)
	return idx
}

var kvPairs = [][2]string{
	{"apple", "artichoke"},
	{"banana", "broccoli"},
	{"cherry", "cabbage"},
	{"durian", "daikon"},
	{"elderberry", "eggplant"},
	{"fig", "fennel"},
	{"grapefruit", "ginger"},
	{"honeydew", "horseradish"},
	{"imbe", "ivygourd"},
	{"jackfruit", "jicama"},
	{"kiwi", "kale"},
	{"lime", "leek"},
	{"mango", "mushroom"},
	{"nectarine", "nopale"},
	{"orange", "okra"},
	{"peach", "peas"},
	{"quince", "quinoa"},
	{"raspberry", "radish"},
	{"strawberry", "spinach"},
	{"tangerine", "tomato"},
	{"ugni", "ube"},
	{"voavanga", "vanilla"},
	{"watermelon", "watercress"},
	{"ximenia", "xanthan"},
	{"yuzu", "yam"},
	{"zarzamora", "zucchini"},
}

func seedKey(fruit string, round int) []byte { return []byte(fmt.Sprintf("%s%d", fruit, round)) }

// seedStats counts what a seed run wrote.
type seedStats struct {
	Puts       int
	Overwrites int
	Deletes    int
}

func (s seedStats) total() int { return s.Puts + s.Overwrites + s.Deletes }

// runSeed writes rounds of fruit keys starting at *seedIndex. After each
// round every third key of the previous round is deleted and every third
// one overwritten, so flushed segments carry shadowed versions and
// tombstones for compaction to drop.
func runSeed(engine *db.DB, rounds int, seedIndex *int) (seedStats, error) {
	var stats seedStats
	shuffled := make([][2]string, len(kvPairs))
	copy(shuffled, kvPairs)

	for r := 0; r < rounds; r++ {
		round := *seedIndex
		rand.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, pair := range shuffled {
			value := fmt.Sprintf("%s%d", pair[1], round)
			if err := engine.Upsert(common.NewPut(seedKey(pair[0], round), []byte(value))); err != nil {
				return stats, err
			}
			stats.Puts++
		}

		if round > 0 {
			for i, pair := range kvPairs {
				var e *common.Entry
				switch i % 3 {
				case 0:
					e = common.NewTombstone(seedKey(pair[0], round-1))
					stats.Deletes++
				case 1:
					e = common.NewPut(seedKey(pair[0], round-1), []byte(fmt.Sprintf("%s%d*", pair[1], round-1)))
					stats.Overwrites++
				default:
					continue
				}
				if err := engine.Upsert(e); err != nil {
					return stats, err
				}
			}
		}
		*seedIndex++
	}

	err := engine.Put([]byte(seedIndexKey), []byte(strconv.Itoa(*seedIndex)))
	return stats, err
}

func seed(engine *db.DB, logger *common.Logger, rounds int, seedIndex *int) {
	start := time.Now()
	first := *seedIndex
	stats, err := runSeed(engine, rounds, seedIndex)
	if err != nil {
		fmt.Printf("seed error: %v\n", err)
	}
	if stats.total() == 0 {
		return
	}
	logger.LogDuration(start, "seeded entries",
		"puts", stats.Puts, "overwrites", stats.Overwrites, "deletes", stats.Deletes,
		"first_round", first, "last_round", *seedIndex-1,
		"per_entry", time.Since(start)/time.Duration(stats.total()))
}
