package export

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	rasterScale   = 2.0
	rasterQuality = 80
)

// Raster 在无头浏览器中打开已渲染好的视图并拍平为一张 JPEG。
// Pure capture: all layout happens in the rendered view itself. The
// scale factor and quality are fixed so repeated snapshots of the same
// view stay comparable.
func Raster(ctx context.Context, viewURL string) ([]byte, error) {
	launch := launcher.New().
		Headless(true).
		NoSandbox(true)

	if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	browserURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	defer launch.Cleanup()

	browser := rod.New().Context(ctx).ControlURL(browserURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		_ = browser.Close()
	}()

	page, err := browser.Timeout(60 * time.Second).Page(proto.TargetCreateTarget{URL: viewURL})
	if err != nil {
		return nil, fmt.Errorf("open view %q: %w", viewURL, err)
	}
	defer func() {
		_ = page.Close()
	}()

	page = page.Timeout(60 * time.Second)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             1240,
		Height:            1754,
		DeviceScaleFactor: rasterScale,
	}).Call(page); err != nil {
		return nil, fmt.Errorf("set device metrics: %w", err)
	}

	if err := page.WaitIdle(30 * time.Second); err != nil {
		return nil, fmt.Errorf("wait idle: %w", err)
	}

	quality := rasterQuality
	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, fmt.Errorf("capture snapshot: %w", err)
	}
	return data, nil
}
