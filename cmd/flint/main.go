package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/timtadh/getopt"

	"github.com/outofforest/flint"
	"github.com/outofforest/flint/blockdev"
	"github.com/outofforest/flint/pkg/fileflash"
)

var ErrorCodes = map[string]int{
	"usage":  0,
	"opts":   3,
	"badint": 5,
	"config": 6,
	"image":  7,
	"flash":  8,
}

var UsageMessage = "flint -c <config.yaml> <command>"
var ExtendedMessage = `
flint -- manage flash image files through the littlefs block device bridge

Global Options
  -h, --help                view this message
  -c, --config=<path>       yaml config with image path, window and geometry

Commands

  create
      create a fully erased flash image for the configured window

  info
      print the image header

  dump <block>
      read one block through the bridge and hex dump it

  write <block> <offset> <file>
      program the file contents at the given block and offset

  erase <block>
      erase one block

Config example

  image: flash.img
  window:
    start: 0x3e000
    end: 0x3ffff
  geometry:
    block_size: 4096
    block_count: 2
`

func Usage(code int) {
	fmt.Fprintln(os.Stderr, UsageMessage)
	if code == 0 {
		fmt.Fprintln(os.Stdout, ExtendedMessage)
		code = ErrorCodes["usage"]
	} else {
		fmt.Fprintln(os.Stderr, "Try -h or --help for help")
	}
	os.Exit(code)
}

func ParseBlock(str string, cfg Config) uint32 {
	i, err := strconv.ParseUint(str, 0, 32)
	if err != nil || (cfg.Geometry.BlockCount > 0 && uint32(i) >= cfg.Geometry.BlockCount) {
		fmt.Fprintf(os.Stderr, "Error parsing '%v', expected a block index\n", str)
		Usage(ErrorCodes["badint"])
	}
	return uint32(i)
}

func main() {
	args, optargs, err := getopt.GetOpt(
		os.Args[1:],
		"hc:",
		[]string{
			"help", "config=",
		},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		Usage(ErrorCodes["opts"])
	}

	commands := map[string]func(Config, []string){
		"create": Create,
		"info":   Info,
		"dump":   Dump,
		"write":  Write,
		"erase":  Erase,
	}

	configPath := ""
	for _, oa := range optargs {
		switch oa.Opt() {
		case "-h", "--help":
			Usage(0)
		case "-c", "--config":
			configPath = oa.Arg()
		default:
			fmt.Fprintf(os.Stderr, "Unknown flag '%v'\n", oa.Opt())
			Usage(ErrorCodes["opts"])
		}
	}

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Must supply a config, try --help")
		Usage(ErrorCodes["opts"])
	}
	if len(args) <= 0 {
		fmt.Fprintln(os.Stderr, "Must supply a command, try --help")
		Usage(ErrorCodes["opts"])
	}

	command, has := commands[args[0]]
	if !has {
		fmt.Fprintf(os.Stderr, "Command '%v' not supported, try --help\n", args[0])
		Usage(ErrorCodes["opts"])
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["config"])
	}

	command(cfg, args[1:])
}

func Create(cfg Config, args []string) {
	ctrl, err := fileflash.Create(cfg.Image, cfg.FlashWindow(), cfg.Geometry.PageSize)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["image"])
	}
	defer ctrl.Close()

	fmt.Printf("created %s: window %#x-%#x, page size %d\n",
		cfg.Image, ctrl.Window().Start, ctrl.Window().End, ctrl.PageSize())
}

func Info(cfg Config, args []string) {
	ctrl, err := fileflash.Open(cfg.Image)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["image"])
	}
	defer ctrl.Close()

	w := ctrl.Window()
	fmt.Printf("image:     %s\n", cfg.Image)
	fmt.Printf("window:    %#x-%#x (%d bytes)\n", w.Start, w.End, w.Size())
	fmt.Printf("page size: %d\n", ctrl.PageSize())
	fmt.Printf("blocks:    %d x %d bytes\n", cfg.Geometry.BlockCount, cfg.Geometry.BlockSize)
}

func Dump(cfg Config, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "dump requires a block index, try --help")
		Usage(ErrorCodes["opts"])
	}
	block := ParseBlock(args[0], cfg)

	bd, ctrl := attach(cfg)
	defer ctrl.Close()

	p := make([]byte, cfg.Geometry.BlockSize)
	if code := bd.Read(block, 0, p); code != blockdev.ErrOK {
		fmt.Fprintf(os.Stderr, "read failed: error code %d\n", code)
		os.Exit(ErrorCodes["flash"])
	}

	const width = 16
	for off := 0; off < len(p); off += width {
		end := off + width
		if end > len(p) {
			end = len(p)
		}
		fmt.Printf("%08x  % x\n", off, p[off:end])
	}
	fmt.Printf("crc: %08x\n", blockdev.CRC(0xffffffff, p))
}

func Write(cfg Config, args []string) {
	if len(args) != 3 {
		fmt.Fprintln(os.Stderr, "write requires a block index, an offset and a file, try --help")
		Usage(ErrorCodes["opts"])
	}
	block := ParseBlock(args[0], cfg)
	off, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing '%v', expected an offset\n", args[1])
		Usage(ErrorCodes["badint"])
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["opts"])
	}

	bd, ctrl := attach(cfg)
	defer ctrl.Close()

	if code := bd.Prog(block, uint32(off), data); code != blockdev.ErrOK {
		fmt.Fprintf(os.Stderr, "program failed: error code %d\n", code)
		os.Exit(ErrorCodes["flash"])
	}
	fmt.Printf("programmed %d bytes at block %d offset %d\n", len(data), block, off)
}

func Erase(cfg Config, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "erase requires a block index, try --help")
		Usage(ErrorCodes["opts"])
	}
	block := ParseBlock(args[0], cfg)

	bd, ctrl := attach(cfg)
	defer ctrl.Close()

	if code := bd.Erase(block); code != blockdev.ErrOK {
		fmt.Fprintf(os.Stderr, "erase failed: error code %d\n", code)
		os.Exit(ErrorCodes["flash"])
	}
	fmt.Printf("erased block %d\n", block)
}

// attach opens the image and wires the bridge into a block device config,
// the same way firmware wires it into the filesystem library.
func attach(cfg Config) (*blockdev.Config, *fileflash.FileFlash) {
	ctrl, err := fileflash.Open(cfg.Image)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["image"])
	}

	bd := &blockdev.Config{
		BlockSize:  cfg.Geometry.BlockSize,
		BlockCount: cfg.Geometry.BlockCount,
	}
	if _, err := flint.Attach(ctrl, bd, flint.WithWindow(cfg.FlashWindow())); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ErrorCodes["flash"])
	}
	return bd, ctrl
}
