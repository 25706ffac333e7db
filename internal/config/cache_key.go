package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CommentaryKey returns the cache key for a generated commentary. hash is the
// content address of (exam, student, role, snapshot).
func (r *CacheKeyStruct) CommentaryKey(hash string) string {
	return fmt.Sprintf("coach:%s:text", hash)
}

// CommentaryLockKey returns the key of the in-flight generation lease.
func (r *CacheKeyStruct) CommentaryLockKey(hash string) string {
	return fmt.Sprintf("coach:%s:lock", hash)
}

var CacheKey = NewCacheKeyStruct()
