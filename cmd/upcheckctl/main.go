package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/upcheck/upcheck/internal/sharedstate"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage:")
		fmt.Println("	upcheckctl <shm-path> status")
		fmt.Println("	upcheckctl <shm-path> peer <index>")
		os.Exit(1)
	}

	shmPath := os.Args[1]
	cmd := os.Args[2]

	// a read-only inspector never takes a slot lock, so its worker id is
	// never compared against anything; any value attaches cleanly.
	region, err := sharedstate.Open(shmPath, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening region: %v\n", err)
		os.Exit(1)
	}
	defer region.Close()

	switch cmd {
	case "status":
		fmt.Printf("generation: %d\n", region.Generation())
		fmt.Printf("slots: %d\n", region.SlotCount())
		for i := 0; i < region.SlotCount(); i++ {
			printPeer(region, i)
		}

	case "peer":
		if len(os.Args) < 4 {
			fmt.Println("Usage: upcheckctl <shm-path> peer <index>")
			os.Exit(1)
		}
		idx, err := strconv.Atoi(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid index %q: %v\n", os.Args[3], err)
			os.Exit(1)
		}
		printPeer(region, idx)

	default:
		fmt.Printf("unknown command: %s\n", cmd)
		fmt.Println("valid commands: status, peer")
		os.Exit(1)
	}
}

func printPeer(region *sharedstate.Region, index int) {
	snap, err := region.Snapshot(index)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peer %d: %v\n", index, err)
		return
	}

	state := "up"
	if snap.Down {
		state = "down"
	}

	owner := "none"
	if snap.OwnerValid {
		owner = strconv.FormatUint(uint64(snap.Owner), 10)
	}

	fmt.Printf("peer %d: %s  business=%d rise=%d fall=%d access_count=%d owner=%s\n",
		snap.Index, state, snap.Business, snap.RiseCount, snap.FallCount, snap.AccessCount, owner)
}
