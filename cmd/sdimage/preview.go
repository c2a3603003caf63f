package main

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/urfave/cli/v2"

	"github.com/bodgit/sdimage/pixel"
)

// preview packs the image into RGB565 and displays the unpacked result, so
// the window shows the color banding the target display will show.
func preview(c *cli.Context) error {
	if c.NArg() < 1 {
		cli.ShowCommandHelpAndExit(c, c.Command.FullName(), 1)
	}

	order, err := parseOrder(c.String("byte-order"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	img, err := decodeImage(c.Args().First())
	if err != nil {
		return cli.Exit(err, 1)
	}
	b := img.Bounds()

	conv := pixel.Converter{Format: pixel.RGB565, Order: order}
	buf := make([]byte, b.Dx()*b.Dy()*conv.Format.BytesPerPixel())
	w, err := pixel.NewWriter(buf, b.Dx(), b.Dy(), b.Dx(), b.Dy(), conv, pixel.Nearest)
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

	g := &previewGame{
		conv:   conv,
		buf:    buf,
		width:  b.Dx(),
		height: b.Dy(),
	}
	ebiten.SetWindowTitle(c.Args().First())
	ebiten.SetWindowSize(b.Dx()*2, b.Dy()*2)
	if err := ebiten.RunGame(g); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

type previewGame struct {
	conv   pixel.Converter
	buf    []byte
	width  int
	height int
	img    *ebiten.Image
}

func (g *previewGame) Update() error {
	return nil
}

func (g *previewGame) Draw(screen *ebiten.Image) {
	if g.img == nil {
		rgba := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
		bpp := g.conv.Format.BytesPerPixel()
		for i := 0; i < g.width*g.height; i++ {
			r, gg, b, a := g.conv.At(g.buf[i*bpp:])
			j := i * 4
			rgba.Pix[j], rgba.Pix[j+1], rgba.Pix[j+2], rgba.Pix[j+3] = r, gg, b, a
		}
		g.img = ebiten.NewImage(g.width, g.height)
		g.img.WritePixels(rgba.Pix)
	}
	screen.DrawImage(g.img, nil)
}

func (g *previewGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	return g.width, g.height
}
