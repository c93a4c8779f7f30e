// Command core_engine boots a boot image under the machine core and
// runs it to completion or until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"core_engine/system"
)

func main() {
	var (
		imagePath = flag.String("image", "", "boot image to load into RAM (required)")
		loadBase  = flag.Uint("base", 0xF0000, "linear address to load the boot image at (default: top of the 64KB BIOS ROM region containing the F000:FFF0 reset vector)")
		memSize   = flag.Int("mem", 1<<20, "guest RAM size in bytes")
		extMemKB  = flag.Uint("extmem", 63*1024, "CMOS extended memory size in KB, reported at register 0x17/0x18")
		tickQuant = flag.Uint("pit-tick", 1, "PIT counter decrement applied per executed instruction")
		debug     = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "core_engine: -image is required")
		flag.Usage()
		os.Exit(2)
	}

	image, err := os.ReadFile(*imagePath)
	if err != nil {
		log.Fatalf("core_engine: reading boot image: %v", err)
	}

	m, err := system.NewMachine(system.MachineConfig{
		MemorySize:     *memSize,
		ExtendedMemKB:  uint32(*extMemKB),
		PITTickQuantum: uint16(*tickQuant),
		Debug:          *debug,
	})
	if err != nil {
		log.Fatalf("core_engine: %v", err)
	}

	if err := m.LoadImage(uint32(*loadBase), image); err != nil {
		log.Fatalf("core_engine: loading boot image: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := m.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("core_engine: %v", err)
	}
}
