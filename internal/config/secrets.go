package config

import "maps"

const redacted = "***"

// RedactedConfig returns a copy of cfg with credentials masked, safe to log.
// Maps and slices are copied so the result cannot alias cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Ethereum.RPCURL) // provider URLs usually embed an API key
	redact(&out.CoinGecko.APIKey)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.CoinGecko.CoinIDs = maps.Clone(cfg.CoinGecko.CoinIDs)
	out.Prices.Manual = maps.Clone(cfg.Prices.Manual)
	out.CoinGecko.Backfill = append([]BackfillEntry(nil), cfg.CoinGecko.Backfill...)
	out.Decimals.Six = append([]string(nil), cfg.Decimals.Six...)
	out.Decimals.Two = append([]string(nil), cfg.Decimals.Two...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
