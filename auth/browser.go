package auth

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// browserLoginTimeout bounds how long the user gets to complete the provider
// login before the browser session is abandoned.
const browserLoginTimeout = 4 * time.Minute

// CaptureRedirect opens a browser window on the authorization URL and waits
// for the provider to redirect back to redirectURI with either a code or an
// error. It returns the full redirect URL for HandleCallback. The user
// completes the provider login interactively in the opened window.
func CaptureRedirect(ctx context.Context, authURL, redirectURI string) (string, error) {
	browserCtx, cancel := createChromeContext()
	if browserCtx == nil {
		return "", fmt.Errorf("no Chrome or Chromium executable found in PATH")
	}
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, browserLoginTimeout)
	defer cancelTimeout()

	var finalURL string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(authURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for {
				var currentURL string
				if err := chromedp.Location(&currentURL).Do(ctx); err != nil {
					return err
				}
				if strings.HasPrefix(currentURL, redirectURI) &&
					(strings.Contains(currentURL, "code=") || strings.Contains(currentURL, "error=")) {
					finalURL = currentURL
					return nil
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(500 * time.Millisecond):
				}
			}
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to capture redirect from browser: %w", err)
	}
	return finalURL, nil
}

// createChromeContext creates a new ChromeDP context with a visible browser
// window, since the user has to type their provider credentials themselves.
func createChromeContext() (context.Context, context.CancelFunc) {
	// Check if Google Chrome or Chromium is available in the path
	var execPath string
	if path, err := exec.LookPath("google-chrome"); err == nil {
		execPath = path
	} else if path, err := exec.LookPath("chromium"); err == nil {
		execPath = path
	} else if path, err := exec.LookPath("chrome"); err == nil {
		execPath = path
	} else {
		log.Error().Msg("Neither Google Chrome nor Chromium is available in the path. Please install one of them.")
		return nil, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-gpu", false),
		chromedp.Flag("start-maximized", true),
	)

	allocatorCtx, cancelAllocator := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancelContext := chromedp.NewContext(allocatorCtx, chromedp.WithLogf(log.Info().Msgf))

	return ctx, func() {
		cancelContext()
		cancelAllocator()
	}
}
