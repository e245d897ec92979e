package client

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/skip2/go-qrcode"

	"holedeck/internal/constants"
	"holedeck/internal/engine"
	"holedeck/internal/lifecycle"
)

const (
	ColorReset  = constants.ColorReset
	ColorBold   = constants.ColorBold
	ColorDim    = constants.ColorDim
	ColorCyan   = constants.ColorCyan
	ColorGreen  = constants.ColorGreen
	ColorYellow = constants.ColorYellow
	ColorRed    = constants.ColorRed
	ColorPurple = constants.ColorPurple
)

// Out receives all console output.
var Out io.Writer = os.Stdout

func PrintBanner() {
	fmt.Fprintln(Out)
	fmt.Fprintf(Out, "  %s%sholedeck%s %sv%s%s\n", ColorBold, ColorCyan, ColorReset, ColorBold, constants.Version, ColorReset)
	fmt.Fprintf(Out, "  %sTunnel session manager%s\n", ColorDim, ColorReset)
	fmt.Fprintln(Out)
}

func PrintHint(text string) {
	fmt.Fprintf(Out, "  %s%s%s\n", ColorDim, text, ColorReset)
}

func PrintError(err error) {
	fmt.Fprintf(Out, "\n  %s%s%s\n\n", ColorRed, err.Error(), ColorReset)
}

func PrintField(label, value, valueColor string) {
	fmt.Fprintf(Out, "  %s%-12s%s %s%s%s\n", ColorDim, label, ColorReset, valueColor, value, ColorReset)
}

func PrintSep() {
	fmt.Fprintf(Out, "  %s%s%s\n", ColorDim, strings.Repeat("─", 50), ColorReset)
}

// PrintSession shows what a started session exposes.
func PrintSession(info *lifecycle.SessionInfo) {
	PrintField("session", info.ID, ColorReset)
	PrintField("mode", string(info.Mode), ColorReset)
	switch info.Mode {
	case engine.ModeServer:
		PrintField("share", info.URL, ColorCyan)
		PrintField("local", info.Address, ColorReset)
	case engine.ModeClient:
		PrintField("remote", info.URL, ColorCyan)
		PrintField("listening", info.Address, ColorYellow)
	}
	if info.Secure {
		PrintField("e2ee", "on (X25519 + XChaCha20-Poly1305)", ColorGreen)
	} else {
		PrintField("e2ee", "off", ColorDim)
	}
}

// PrintQR renders s as a terminal QR code.
func PrintQR(s string) error {
	qr, err := qrcode.New(s, qrcode.Low)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimRight(qr.ToSmallString(false), "\n"), "\n") {
		fmt.Fprintf(Out, "  %s\n", line)
	}
	return nil
}
