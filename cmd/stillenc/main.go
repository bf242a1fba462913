package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"

	"github.com/xaionaro-go/stillenc/accel/swjpeg"
	"github.com/xaionaro-go/stillenc/bitstream"
	"github.com/xaionaro-go/stillenc/encoder"
	"github.com/xaionaro-go/stillenc/pump"
	"github.com/xaionaro-go/stillenc/sink"
	"github.com/xaionaro-go/stillenc/source"
	"github.com/xaionaro-go/stillenc/surface"
	"github.com/xaionaro-go/stillenc/types"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s -i <input file (raw NV12 frames)> -w <width> -h <height> [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "encodes raw NV12 frames to one JPEG image per frame\n\n")
		pflag.PrintDefaults()
	}

	inputPath := pflag.StringP("input", "i", "", "input file name (raw NV12 frames)")
	width := pflag.Uint32P("width", "w", 0, "input width")
	height := pflag.Uint32P("height", "h", 0, "input height")
	frameRate := pflag.Uint32P("framerate", "f", 25, "frame rate")
	quality := pflag.Uint32P("quality", "q", 90, "JPEG quality (1-100)")
	restartInterval := pflag.Uint32("restart-interval", 0, "JPEG restart interval in MCU rows (0: no restart markers; subject to encoder support)")
	outputDir := pflag.String("output-dir", ".", "the directory for the frame<N>.jpg output files")
	maxFrames := pflag.Uint64("max-frames", 0, "stop after this many encoded frames (0: unlimited)")
	resetAfterFrame := pflag.Uint64("reset-after-frame", 0, "perform a live resolution reset after this frame (0: never)")
	resetWidth := pflag.Uint32("reset-width", 0, "the width to reset to")
	resetHeight := pflag.Uint32("reset-height", 0, "the height to reset to")
	resetInput := pflag.String("reset-input", "", "the input file to switch to on reset (default: keep the current one)")
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	if *inputPath == "" || *width == 0 || *height == 0 {
		pflag.Usage()
		os.Exit(1)
	}
	if *resetAfterFrame != 0 && (*resetWidth == 0 || *resetHeight == 0) {
		fmt.Fprintf(os.Stderr, "--reset-after-frame requires --reset-width and --reset-height\n")
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	os.Exit(run(ctx, encodeConfig{
		InputPath:       *inputPath,
		Width:           *width,
		Height:          *height,
		FrameRate:       *frameRate,
		Quality:         *quality,
		RestartInterval: *restartInterval,
		OutputDir:       *outputDir,
		MaxFrames:       *maxFrames,
		ResetAfterFrame: *resetAfterFrame,
		ResetWidth:      *resetWidth,
		ResetHeight:     *resetHeight,
		ResetInput:      *resetInput,
	}))
}

type encodeConfig struct {
	InputPath       string
	Width           uint32
	Height          uint32
	FrameRate       uint32
	Quality         uint32
	RestartInterval uint32
	OutputDir       string
	MaxFrames       uint64
	ResetAfterFrame uint64
	ResetWidth      uint32
	ResetHeight     uint32
	ResetInput      string
}

// run owns the whole encode lifecycle. Resources are registered on a closer
// and released in reverse-acquisition order on every exit path: close the
// encode session first, only then drop the bitstream and surface storage.
func run(ctx context.Context, cfg encodeConfig) (_exitCode int) {
	l := logger.FromCtx(ctx)
	closer := astikit.NewCloser()
	defer closer.Close()

	src, err := source.NewFile(ctx, cfg.InputPath)
	if err != nil {
		l.Errorf("could not open the input file: %v", err)
		return 1
	}

	session := swjpeg.NewSession(ctx, swjpeg.SessionConfig{})
	enc := encoder.New(ctx, session)
	var p *pump.Pump
	closer.Add(func() {
		if err := enc.Close(ctx); err != nil {
			l.Errorf("unable to close the encoder: %v", err)
		}
		// a live reset may have swapped (and closed) the initial source
		var current source.Source = src
		if p != nil {
			current = p.Source
		}
		if err := current.Close(ctx); err != nil {
			l.Errorf("unable to close the source: %v", err)
		}
	})

	requestedParams := types.EncodeParams{
		CodecID:         types.CodecIDJPEG,
		FrameRate:       cfg.FrameRate,
		Quality:         cfg.Quality,
		RestartInterval: cfg.RestartInterval,
		Interleaved:     true,
		FrameInfo: types.FrameInfo{
			FourCC:       types.FourCCNV12,
			ChromaFormat: types.ChromaFormatYUV420,
			CropW:        cfg.Width,
			CropH:        cfg.Height,
			Width:        types.Align16(cfg.Width),
			Height:       types.Align16(cfg.Height),
		},
	}

	effectiveParams, err := enc.Negotiate(ctx, requestedParams)
	if err != nil {
		l.Errorf("the encode parameter negotiation failed: %v", err)
		return 1
	}
	if err := enc.Init(ctx); err != nil {
		l.Errorf("the encoder initialization failed: %v", err)
		return 1
	}
	surfaceCount, err := enc.QuerySurfaceCount(ctx)
	if err != nil {
		l.Errorf("the surface requirement query failed: %v", err)
		return 1
	}

	bs := bitstream.NewBuffer(bitstream.DefaultBufferSize)
	pool, err := surface.NewPool(ctx, surfaceCount, effectiveParams.FrameInfo)
	if err != nil {
		l.Errorf("the surface pool allocation failed: %v", err)
		return 1
	}

	p = pump.New(
		ctx,
		enc,
		encoder.NewSynchronizer(session),
		src,
		sink.NewFileSink(cfg.OutputDir),
		pool,
		bs,
		pump.Config{
			Hooks: pump.Hooks{
				OnFrameEncoded: hooksFromConfig(ctx, cfg),
			},
		},
	)

	err = p.Serve(ctx)
	fmt.Printf("Encoded %d frames\n", p.FrameCount())
	if err != nil {
		l.Errorf("the encoding loop failed: %v", err)
		return 1
	}
	return 0
}

// hooksFromConfig turns the CLI's reset/stop settings into the pump's
// policy hook.
func hooksFromConfig(
	ctx context.Context,
	cfg encodeConfig,
) func(context.Context, uint64) pump.Directive {
	if cfg.MaxFrames == 0 && cfg.ResetAfterFrame == 0 {
		return nil
	}
	return func(ctx context.Context, frameNum uint64) pump.Directive {
		if cfg.MaxFrames != 0 && frameNum >= cfg.MaxFrames {
			return pump.Directive{Stop: true}
		}
		if cfg.ResetAfterFrame == 0 || frameNum != cfg.ResetAfterFrame {
			return pump.Directive{}
		}

		req := &pump.ReconfigureRequest{
			Resolution: types.Resolution{Width: cfg.ResetWidth, Height: cfg.ResetHeight},
		}
		if cfg.ResetInput != "" {
			newSource, err := source.NewFile(ctx, cfg.ResetInput)
			if err != nil {
				logger.FromCtx(ctx).Errorf("could not open the new input file, keeping the old one: %v", err)
			} else {
				req.NewSource = newSource
			}
		}
		return pump.Directive{Reconfigure: req}
	}
}
