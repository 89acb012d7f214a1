package cache

import (
	"github.com/petar/GoLLRB/llrb"
	"github.com/tunabay/go-infounit"
)

// evictionPlan 是一次淘汰的决策结果：keep 为最新优先的前缀，remove 为其余全部条目。
type evictionPlan struct {
	keep   []Entry
	remove []Entry
}

// candidate 按创建时间排序，时间相同时按 key 排序，保证树中不会出现相等元素。
type candidate struct {
	entry Entry
}

// Less compares creation times, falling back to the key for a total order.
func (c *candidate) Less(than llrb.Item) bool {
	other := than.(*candidate) //nolint:forcetypeassert
	if !c.entry.CreatedAt.Equal(other.entry.CreatedAt) {
		return c.entry.CreatedAt.Before(other.entry.CreatedAt)
	}
	return c.entry.Key < other.entry.Key
}

// planEviction 从最新条目开始累加大小：running+size < maxBytes 则保留；
// 第一次不满足时，该条目以及所有更旧的条目一并删除，不再尝试回填更小的旧条目。
func planEviction(entries []Entry, maxBytes infounit.ByteCount) evictionPlan {
	if len(entries) == 0 {
		return evictionPlan{}
	}
	tree := llrb.New()
	for i := range entries {
		tree.InsertNoReplace(&candidate{entry: entries[i]})
	}

	ordered := make([]Entry, 0, tree.Len())
	tree.AscendGreaterOrEqual(tree.Min(), func(item llrb.Item) bool {
		ordered = append(ordered, item.(*candidate).entry) //nolint:forcetypeassert
		return true
	})

	var (
		plan    evictionPlan
		running infounit.ByteCount
	)
	for i := len(ordered) - 1; i >= 0; i-- {
		entry := ordered[i]
		if running+entry.SizeBytes < maxBytes {
			running += entry.SizeBytes
			plan.keep = append(plan.keep, entry)
			continue
		}
		for j := i; j >= 0; j-- {
			plan.remove = append(plan.remove, ordered[j])
		}
		break
	}
	return plan
}
