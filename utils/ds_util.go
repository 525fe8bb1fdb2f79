package utils

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

// List2set 列表转为集合
func List2set[T comparable](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// GroupBy 按照key分组，每组内保持原来的顺序
func GroupBy[T any, K comparable](list []T, key func(T) K) map[K][]T {
	groups := make(map[K][]T)
	for _, value := range list {
		k := key(value)
		groups[k] = append(groups[k], value)
	}
	return groups
}
