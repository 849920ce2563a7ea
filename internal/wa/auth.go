package wa

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/matheus3301/wppmon/internal/bus"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

const qrImageSize = 256

// startPairingLocked begins the QR flow and streams pairing payloads to the
// bus until the device pairs, the codes run out or the flow is cancelled.
// Callers hold mu.
func (a *Adapter) startPairingLocked(client *whatsmeow.Client) error {
	a.stopPairingLocked()

	// The QR flow outlives the Initialize call that starts it.
	ctx, cancel := context.WithCancel(context.Background())
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("get QR channel: %w", err)
	}
	// Connect must be called after GetQRChannel.
	if err := client.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect for pairing: %w", err)
	}
	a.cancelQR = cancel
	a.logger.Info("waiting for QR pairing")

	go a.consumeQR(ctx, qrChan)
	return nil
}

func (a *Adapter) stopPairingLocked() {
	if a.cancelQR != nil {
		a.cancelQR()
		a.cancelQR = nil
	}
}

func (a *Adapter) consumeQR(ctx context.Context, qrChan <-chan whatsmeow.QRChannelItem) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-qrChan:
			if !ok {
				return
			}
			if done := a.handleQRItem(item); done {
				return
			}
		}
	}
}

// handleQRItem publishes the lifecycle event for one QR channel item and
// reports whether the flow is over. Success is announced by the PairSuccess
// event rather than here.
func (a *Adapter) handleQRItem(item whatsmeow.QRChannelItem) bool {
	switch item.Event {
	case "code":
		payload, err := EncodePairingPayload(item.Code)
		if err != nil {
			a.logger.Error("failed to render QR code", zap.Error(err))
			return false
		}
		a.bus.Publish(bus.NewEvent(bus.KindPairingRequired, payload))
		return false
	case "success":
		return true
	case "timeout":
		a.logger.Warn("QR pairing timed out")
		a.bus.Publish(bus.NewEvent(bus.KindDisconnected, "pairing timed out"))
		return true
	}
	if item.Error != nil {
		a.bus.Publish(bus.NewEvent(bus.KindAuthFailure, item.Error.Error()))
		return true
	}
	return false
}

// EncodePairingPayload renders a pairing code as a base64 PNG QR image.
func EncodePairingPayload(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
