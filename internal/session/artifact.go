package session

import qrcode "github.com/skip2/go-qrcode"

func renderPairingPNG(code string) ([]byte, error) {
	return qrcode.Encode(code, qrcode.Medium, 256)
}
