// Command rootkeysctl drives the three root-key procedures (InitKeys,
// UpdateGateware, SignXous) against flat files on disk, standing in for
// the real memory-mapped KEYROM CSR and flash regions. Passphrase entry
// is masked at the terminal.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package main

import (
	"bufio"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/usbarmory/rootkeys-core/flashmap"
	"github.com/usbarmory/rootkeys-core/flashwriter/flashsim"
	"github.com/usbarmory/rootkeys-core/gateware"
	"github.com/usbarmory/rootkeys-core/internal/fontstream"
	"github.com/usbarmory/rootkeys-core/progress"
	"github.com/usbarmory/rootkeys-core/pwcache"
	"github.com/usbarmory/rootkeys-core/rootkeys"
	"github.com/usbarmory/rootkeys-core/signer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init-keys":
		runInitKeys(args)
	case "update-gateware":
		runUpdateGateware(args)
	case "sign-xous":
		runSignXous(args)
	case "check-gateware":
		runCheckGateware(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: rootkeysctl <init-keys|update-gateware|sign-xous|check-gateware> [flags]")
}

// commonFlags holds the file paths and logging options every subcommand
// shares.
type commonFlags struct {
	keyrom   string
	gateware string
	staging  string
	loader   string
	kernel   string
	font     string
	verbose  bool
	logJSON  bool
}

func bindCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.keyrom, "keyrom", "keyrom.bin", "path to the 1024-byte KEYROM register image")
	fs.StringVar(&c.gateware, "gateware", "gateware.bin", "path to the live gateware region image")
	fs.StringVar(&c.staging, "staging", "staging.bin", "path to the staging region image")
	fs.StringVar(&c.loader, "loader", "loader.bin", "path to the loader region image")
	fs.StringVar(&c.kernel, "kernel", "kernel.bin", "path to the kernel region image")
	fs.StringVar(&c.font, "font", "", "path to font-glyph data fed to the loader signer (init-keys, sign-xous only)")
	fs.BoolVar(&c.verbose, "v", false, "enable debug logging")
	fs.BoolVar(&c.logJSON, "log-format-json", false, "emit logs as JSON instead of text")
	return c
}

func (c *commonFlags) configureLogging() {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.logJSON {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}
}

func (c *commonFlags) openFlash() (*diskFlash, error) {
	return openDiskFlash(map[flashmap.Region]string{
		flashmap.Gateware: c.gateware,
		flashmap.Staging:  c.staging,
		flashmap.Loader:   c.loader,
		flashmap.Kernel:   c.kernel,
	})
}

func (c *commonFlags) openKeyrom() (*fileDevice, error) {
	return openFileDevice(c.keyrom)
}

func (c *commonFlags) openFont() fontstream.Source {
	if c.font == "" {
		return fontstream.NewBuffer(nil)
	}
	data, err := os.ReadFile(c.font)
	if err != nil {
		slog.Warn("font file unreadable, loader will sign an empty stream", "path", c.font, "err", err)
		return fontstream.NewBuffer(nil)
	}
	return fontstream.NewBuffer(data)
}

func runInitKeys(args []string) {
	fs := flag.NewFlagSet("init-keys", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)
	c.configureLogging()

	dev, err := c.openKeyrom()
	fatalOn("open keyrom", err)
	flash, err := c.openFlash()
	fatalOn("open flash", err)

	boot := readPassphrase("Boot passphrase")
	update := readPassphrase("Update passphrase")
	confirmOrExit("Provision this device now?")

	o := newOrchestrator(dev, flash, c.openFont())
	err = o.InitKeys(boot, update)
	fatalOn("init-keys", err)

	fatalOn("flush keyrom", dev.Sync())
	fatalOn("flush flash", flash.Sync())
	fmt.Println("init-keys: done")
}

func runUpdateGateware(args []string) {
	fs := flag.NewFlagSet("update-gateware", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)
	c.configureLogging()

	dev, err := c.openKeyrom()
	fatalOn("open keyrom", err)
	flash, err := c.openFlash()
	fatalOn("open flash", err)

	update := readPassphrase("Update passphrase")

	o := newOrchestrator(dev, flash, nil)
	fatalOn("unlock", o.Unlock(pwcache.Update, update))
	fatalOn("update-gateware", o.UpdateGateware())

	fatalOn("flush keyrom", dev.Sync())
	fatalOn("flush flash", flash.Sync())
	fmt.Println("update-gateware: done")
}

func runSignXous(args []string) {
	fs := flag.NewFlagSet("sign-xous", flag.ExitOnError)
	c := bindCommon(fs)
	fs.Parse(args)
	c.configureLogging()

	dev, err := c.openKeyrom()
	fatalOn("open keyrom", err)
	flash, err := c.openFlash()
	fatalOn("open flash", err)

	update := readPassphrase("Update passphrase")

	o := newOrchestrator(dev, flash, c.openFont())
	fatalOn("unlock", o.Unlock(pwcache.Update, update))
	fatalOn("sign-xous", o.SignXous())

	fatalOn("flush keyrom", dev.Sync())
	fatalOn("flush flash", flash.Sync())
	fmt.Println("sign-xous: done")
}

func runCheckGateware(args []string) {
	fs := flag.NewFlagSet("check-gateware", flag.ExitOnError)
	c := bindCommon(fs)
	staging := fs.Bool("check-staging", false, "check the staging region instead of the live gateware")
	fs.Parse(args)
	c.configureLogging()

	dev, err := c.openKeyrom()
	fatalOn("open keyrom", err)
	flash, err := c.openFlash()
	fatalOn("open flash", err)

	sel := gateware.Boot
	if *staging {
		sel = gateware.Staging
	}

	o := newOrchestrator(dev, flash, nil)
	result, err := o.CheckGatewareSignature(sel)
	fatalOn("check-gateware", err)

	if m, merr := o.GatewareMetadata(sel); merr == nil {
		fmt.Printf("gateware %s: %s (date code %08x)\n", sel, m.VersionString(), m.DateCode)
	}
	fmt.Printf("signature: %s\n", result)
	if result == signer.Invalid {
		os.Exit(1)
	}
}

func newOrchestrator(dev *fileDevice, flash *diskFlash, font fontstream.Source) *rootkeys.Orchestrator {
	cfg := rootkeys.DefaultConfig()
	return rootkeys.New(cfg, dev, flash, rand.Reader, font, nil, nil, progress.NewLogger(nil))
}

// readPassphrase prompts on stderr and reads a masked line from the
// terminal, mirroring keyswap's raw-mode stdin handling.
func readPassphrase(prompt string) string {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading passphrase: %v\n", err)
		os.Exit(1)
	}
	return string(b)
}

func confirmOrExit(prompt string) {
	fmt.Fprintf(os.Stderr, "%s (y/n): ", prompt)
	reply, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading confirmation: %v\n", err)
		os.Exit(1)
	}
	reply = strings.ToLower(strings.TrimSpace(reply))
	if reply != "y" && reply != "yes" {
		fmt.Fprintln(os.Stderr, "cancelled.")
		os.Exit(0)
	}
}

func fatalOn(step string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
		os.Exit(1)
	}
}

// diskFlash adapts flashsim.Sim, which already implements the
// flashmap.Region/Patch contract in memory, into a Flash backed by files:
// regions are loaded at open and written back out on Sync.
type diskFlash struct {
	*flashsim.Sim
	paths map[flashmap.Region]string
}

func openDiskFlash(paths map[flashmap.Region]string) (*diskFlash, error) {
	seed := make(map[flashmap.Region][]byte, len(paths))
	for region, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		seed[region] = data
	}
	return &diskFlash{Sim: flashsim.New(seed), paths: paths}, nil
}

func (d *diskFlash) Sync() error {
	for region, path := range d.paths {
		if err := os.WriteFile(path, d.Region(region), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// fileDevice implements keyrom.Device over a flat 1024-byte (256×32-bit,
// big-endian) register image, standing in for the memory-mapped KEYROM CSR.
type fileDevice struct {
	path  string
	words [256]uint32
}

func openFileDevice(path string) (*fileDevice, error) {
	d := &fileDevice{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) != len(d.words)*4 {
		return nil, fmt.Errorf("%s: want %d bytes, got %d", path, len(d.words)*4, len(data))
	}
	for i := range d.words {
		d.words[i] = uint32(data[i*4])<<24 | uint32(data[i*4+1])<<16 | uint32(data[i*4+2])<<8 | uint32(data[i*4+3])
	}
	return d, nil
}

func (d *fileDevice) ReadWord(addr uint8) uint32 { return d.words[addr] }

func (d *fileDevice) WriteWord(addr uint8, val uint32) { d.words[addr] = val }

func (d *fileDevice) Sync() error {
	out := make([]byte, len(d.words)*4)
	for i, w := range d.words {
		out[i*4] = byte(w >> 24)
		out[i*4+1] = byte(w >> 16)
		out[i*4+2] = byte(w >> 8)
		out[i*4+3] = byte(w)
	}
	return os.WriteFile(d.path, out, 0o600)
}
