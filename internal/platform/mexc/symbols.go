package mexc

import (
	"strings"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// NormalizeSymbol converts an exchange symbol into the canonical form used
// throughout the relay: uppercase, separators stripped, quote asset prefixed
// with an underscore ("BTCUSDT" -> "BTC_USDT").
func NormalizeSymbol(raw, quoteAsset string) string {
	if raw == "" {
		return ""
	}
	qa := strings.ToUpper(quoteAsset)
	s := strings.ToUpper(raw)
	s = strings.NewReplacer("-", "", "_", "", " ", "").Replace(s)
	return strings.Replace(s, qa, "_"+qa, 1)
}

// SideFromOrderCode maps the wire order side (1=OpenLong, 2=CloseLong,
// 3=OpenShort, 4=CloseShort) onto the position direction the order acts on.
func SideFromOrderCode(code int) (domain.PosSide, bool) {
	switch code {
	case 1, 4:
		return domain.PosSideLong, true
	case 2, 3:
		return domain.PosSideShort, true
	default:
		return "", false
	}
}

// SideFromPositionType maps the wire position type (1=LONG, 2=SHORT).
func SideFromPositionType(code int) (domain.PosSide, bool) {
	switch code {
	case 1:
		return domain.PosSideLong, true
	case 2:
		return domain.PosSideShort, true
	default:
		return "", false
	}
}

// OrderSideFor resolves the wire order side for a trade side ("BUY"/"SELL")
// against a position direction.
func OrderSideFor(side string, posSide domain.PosSide) (OrderSide, bool) {
	buy := strings.EqualFold(side, "BUY")
	switch posSide {
	case domain.PosSideLong:
		if buy {
			return OrderSideOpenLong, true
		}
		return OrderSideCloseLong, true
	case domain.PosSideShort:
		if buy {
			return OrderSideOpenShort, true
		}
		return OrderSideCloseShort, true
	default:
		return 0, false
	}
}
