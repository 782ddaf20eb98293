//go:build !unix && !windows

package sniff

func isAddrInUse(error) bool { return false }
