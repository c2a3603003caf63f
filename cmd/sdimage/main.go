package main

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/draw"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/ericpauley/go-quantize/quantize"
	"github.com/urfave/cli/v2"

	"github.com/bodgit/sdimage"
	"github.com/bodgit/sdimage/decode"
	"github.com/bodgit/sdimage/index"
	"github.com/bodgit/sdimage/pixel"
)

const defaultDB = "sdimage.db"

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}
}

func newLogger(c *cli.Context) *log.Logger {
	logger := log.New(io.Discard, "", 0)
	if c.Bool("verbose") {
		logger.SetOutput(os.Stderr)
	}
	return logger
}

func parseFormat(s string) (pixel.Format, error) {
	switch s {
	case "rgb565":
		return pixel.RGB565, nil
	case "rgb888":
		return pixel.RGB888, nil
	case "rgba":
		return pixel.RGBA, nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

func parseOrder(s string) (pixel.ByteOrder, error) {
	switch s {
	case "little":
		return pixel.LittleEndian, nil
	case "big":
		return pixel.BigEndian, nil
	}
	return 0, fmt.Errorf("unknown byte order %q", s)
}

func parseResizeMode(s string) (pixel.ResizeMode, error) {
	switch s {
	case "nearest":
		return pixel.Nearest, nil
	case "area":
		return pixel.Area, nil
	}
	return 0, fmt.Errorf("unknown resize mode %q", s)
}

// sniffFile classifies a file and returns a decoder for it, or an error for
// raw data, whose dimensions the command line cannot recover.
func sniffFile(f *os.File) (decode.Format, decode.Decoder, error) {
	br := bufio.NewReader(f)
	head, err := br.Peek(decode.SniffLen)
	if err != nil && err != io.EOF {
		return decode.Unknown, nil, err
	}
	format := decode.Sniff(head)
	factory, ok := sdimage.DefaultDecoders()[format]
	if !ok {
		return format, nil, fmt.Errorf("%s: %w", f.Name(), decode.ErrUnsupportedFormat)
	}
	return format, factory(br), nil
}

// decodeImage decodes a whole file into an RGBA image.
func decodeImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, dec, err := sniffFile(f)
	if err != nil {
		return nil, err
	}
	hdr, err := dec.DecodeHeader()
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, hdr.Width, hdr.Height))
	channels := hdr.Layout.Channels()
	y := 0
	for {
		rows, err := dec.NextRows(8)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			dst := img.Pix[y*img.Stride:]
			for x := 0; x < hdr.Width; x++ {
				var r, g, b, a uint8 = 0, 0, 0, 0xff
				switch channels {
				case 1:
					r, g, b = row[x], row[x], row[x]
				case 3:
					r, g, b = row[3*x], row[3*x+1], row[3*x+2]
				case 4:
					r, g, b, a = row[4*x], row[4*x+1], row[4*x+2], row[4*x+3]
				}
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = r, g, b, a
			}
			y++
		}
	}
	return img, nil
}

func info(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	path := c.Args().First()
	f, err := os.Open(path)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer f.Close()

	format, dec, err := sniffFile(f)
	if err != nil {
		return cli.Exit(err, 1)
	}
	hdr, err := dec.DecodeHeader()
	if err != nil {
		return cli.Exit(err, 1)
	}

	layout := "gray"
	switch hdr.Layout {
	case decode.RGB:
		layout = "rgb"
	case decode.RGBA:
		layout = "rgba"
	}
	fmt.Printf("%s: %s, %dx%d, %s\n", path, format, hdr.Width, hdr.Height, layout)
	return nil
}

func convert(c *cli.Context) error {
	if c.NArg() < 2 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	format, err := parseFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	order, err := parseOrder(c.String("byte-order"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	mode, err := parseResizeMode(c.String("resize-mode"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	img, err := decodeImage(c.Args().First())
	if err != nil {
		return cli.Exit(err, 1)
	}
	b := img.Bounds()

	// Optionally reduce the color count before packing; useful when the
	// target display dithers badly.
	if colors := c.Int("colors"); colors > 0 {
		q := quantize.MedianCutQuantizer{}
		pm := image.NewPaletted(b, q.Quantize(make(color.Palette, 0, colors), img))
		draw.Draw(pm, b, img, b.Min, draw.Src)
		draw.Draw(img, b, pm, b.Min, draw.Src)
	}

	outW, outH := b.Dx(), b.Dy()
	if c.Int("width") > 0 {
		outW = c.Int("width")
	}
	if c.Int("height") > 0 {
		outH = c.Int("height")
	}

	conv := pixel.Converter{Format: format, Order: order}
	buf := make([]byte, outW*outH*format.BytesPerPixel())
	w, err := pixel.NewWriter(buf, b.Dx(), b.Dy(), outW, outH, conv, mode)
	if err != nil {
		return cli.Exit(err, 1)
	}
	for y := 0; y < b.Dy(); y++ {
		if err := w.WriteRow(img.Pix[y*img.Stride:y*img.Stride+b.Dx()*4], 4); err != nil {
			return cli.Exit(err, 1)
		}
	}
	if err := w.Close(); err != nil {
		return cli.Exit(err, 1)
	}

	if err := os.WriteFile(c.Args().Get(1), buf, 0o644); err != nil {
		return cli.Exit(err, 1)
	}

	logger := newLogger(c)
	logger.Printf("%s: %dx%d %s %s, %d bytes", c.Args().Get(1), outW, outH, format, order, len(buf))
	return nil
}

func indexDir(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	logger := newLogger(c)

	db, err := index.New(c.String("db"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer db.Close()

	err = filepath.Walk(c.Args().First(), func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.Name()[0] == '.' {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		format, dec, err := sniffFile(f)
		if err != nil {
			// Not an image; skip it.
			return nil
		}
		hdr, err := dec.DecodeHeader()
		if err != nil {
			logger.Printf("%s: %v", path, err)
			return nil
		}

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		h := crc32.NewIEEE()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}

		logger.Printf("%s: %s %dx%d", path, format, hdr.Width, hdr.Height)
		return db.Put(index.Entry{
			Path:   path,
			Format: format.String(),
			Width:  hdr.Width,
			Height: hdr.Height,
			Size:   fi.Size(),
			CRC:    h.Sum32(),
		})
	})
	if err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

func main() {
	app := cli.NewApp()

	app.Name = "sdimage"
	app.Usage = "SD card image asset utility"
	app.Version = "1.0.0"

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "db",
			EnvVars: []string{"SDIMAGE_DB"},
			Value:   filepath.Join(cwd, defaultDB),
			Usage:   "path to asset database",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "increase verbosity",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "info",
			Usage:     "Print image format and dimensions",
			ArgsUsage: "FILE",
			Action:    info,
		},
		{
			Name:      "convert",
			Usage:     "Convert an image to a packed pixel file",
			ArgsUsage: "FILE OUTPUT",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "format",
					Value: "rgb565",
					Usage: "output pixel format (rgb565, rgb888, rgba)",
				},
				&cli.StringFlag{
					Name:  "byte-order",
					Value: "little",
					Usage: "byte order for rgb565 (little, big)",
				},
				&cli.IntFlag{
					Name:  "width",
					Usage: "output width, default natural",
				},
				&cli.IntFlag{
					Name:  "height",
					Usage: "output height, default natural",
				},
				&cli.StringFlag{
					Name:  "resize-mode",
					Value: "nearest",
					Usage: "resampling mode (nearest, area)",
				},
				&cli.IntFlag{
					Name:  "colors",
					Usage: "quantize to this many colors first",
				},
			},
			Action: convert,
		},
		{
			Name:      "index",
			Usage:     "Catalogue the images under a directory",
			ArgsUsage: "DIRECTORY",
			Action:    indexDir,
		},
		{
			Name:      "preview",
			Usage:     "Show an image as the display would render it",
			ArgsUsage: "FILE",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "byte-order",
					Value: "little",
					Usage: "byte order for rgb565 (little, big)",
				},
			},
			Action: preview,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
