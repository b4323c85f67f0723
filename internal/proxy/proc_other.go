//go:build !linux

package proxy

func processRSSBytes() (uint64, bool) { return 0, false }
