package webapi

import (
	"fmt"
	"image/color"
	"math/big"
	"strconv"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

// GenerateQRCodePNG renders content as a PNG; fg and bg are optional
// hex colours ("000000", "#fff").
func GenerateQRCodePNG(content string, size int, fg string, bg string) ([]byte, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	if c, ok := parseHexColor(fg); ok {
		q.ForegroundColor = c
	}
	if c, ok := parseHexColor(bg); ok {
		q.BackgroundColor = c
	}
	return q.PNG(size)
}

func parseHexColor(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, true
}

// TipPaymentURI builds an EIP-681 payment request for tipping wallet.
// A nil raw amount leaves the amount to the payer's wallet app.
func TipPaymentURI(wallet tipjar.Address, token tipjar.TokenConfig, chainID int64, raw *big.Int) string {
	chain := ""
	if chainID != 0 {
		chain = fmt.Sprintf("@%d", chainID)
	}
	if token.IsNative() {
		uri := fmt.Sprintf("ethereum:%s%s", wallet, chain)
		if raw != nil {
			uri += "?value=" + raw.String()
		}
		return uri
	}
	uri := fmt.Sprintf("ethereum:%s%s/transfer?address=%s", tipjar.NormalizeAddress(token.Contract), chain, wallet)
	if raw != nil {
		uri += "&uint256=" + raw.String()
	}
	return uri
}
