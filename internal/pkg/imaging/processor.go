package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

var (
	ErrUndecodable = errors.New("payload is not a decodable image")
	ErrTooLarge    = errors.New("image dimensions exceed limit")
)

// Config for photo normalization
type Config struct {
	Size            int // edge of the square output (default 224)
	MaxSourcePixels int // reject sources larger than this before decoding
}

// DefaultConfig returns default processing config
func DefaultConfig() Config {
	return Config{
		Size:            224,
		MaxSourcePixels: 40_000_000,
	}
}

// Normalized is a decoded photo scaled and center-cropped to a square.
type Normalized struct {
	Image        image.Image
	ContentType  string
	SourceWidth  int
	SourceHeight int
}

// Processor decodes and normalizes photos
type Processor struct {
	config Config
}

func NewProcessor(config Config) *Processor {
	def := DefaultConfig()
	if config.Size <= 0 {
		config.Size = def.Size
	}
	if config.MaxSourcePixels <= 0 {
		config.MaxSourcePixels = def.MaxSourcePixels
	}
	return &Processor{config: config}
}

// Process checks the header dimensions, decodes with EXIF orientation
// applied and fills a Size x Size square from the center.
func (p *Processor) Process(data []byte) (*Normalized, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width*cfg.Height > p.config.MaxSourcePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	return &Normalized{
		Image:        imaging.Fill(img, p.config.Size, p.config.Size, imaging.Center, imaging.Lanczos),
		ContentType:  mimeFromFormat(format),
		SourceWidth:  img.Bounds().Dx(),
		SourceHeight: img.Bounds().Dy(),
	}, nil
}

func mimeFromFormat(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
