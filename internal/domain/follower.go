package domain

// ExchangeCreds are the API credentials of one exchange account.
type ExchangeCreds struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	UID       string `json:"uid,omitempty"`
	Proxy     string `json:"proxy,omitempty"`
}

// HasCreds reports whether the account can authenticate at all.
func (c ExchangeCreds) HasCreds() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// FollowerConfig is the persisted per-account record. ID 0 is the master;
// ids >= 1 are followers. Zero values on the sizing overrides mean
// "copy from the master signal".
type FollowerConfig struct {
	ID            int           `json:"id"`
	Name          string        `json:"name"`
	Role          string        `json:"role"` // "master" or "copy"
	Exchange      ExchangeCreds `json:"exchange"`
	Coef          float64       `json:"coef,omitempty"`
	Leverage      int           `json:"leverage,omitempty"`
	MarginMode    int           `json:"margin_mode,omitempty"`
	MaxMargin     float64       `json:"max_margin,omitempty"`      // USDT cap per derived order
	RandomSizePct [2]float64    `json:"random_size_pct,omitempty"` // uniform percent window
	DelayMs       [2]float64    `json:"delay_ms,omitempty"`        // uniform pre-submit delay window
	Enabled       bool          `json:"enabled"`
	CreatedAt     int64         `json:"created_at,omitempty"`

	// Master-only runtime switches. Kept in sync with the accounts file
	// while running, but cleared on load: a restart never resumes trading
	// on its own.
	TradingEnabled bool `json:"trading_enabled,omitempty"`
	StopFlag       bool `json:"stop_flag,omitempty"`
}

// IsMaster reports whether this record is the signal source account.
func (f FollowerConfig) IsMaster() bool { return f.ID == 0 || f.Role == "master" }

// SizingActive reports whether any follower-side sizing override changes
// derived order quantities relative to the master's.
func (f FollowerConfig) SizingActive() bool {
	if f.Coef != 0 && f.Coef != 1 {
		return true
	}
	if f.RandomSizePct[0] != 0 || f.RandomSizePct[1] != 0 {
		return true
	}
	return f.MaxMargin != 0
}
