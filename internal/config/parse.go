package config

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"swaprouter/internal/model"
)

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

// parseStringMap reads "k=v,k=v". Pair keys contain ':' so '=' is the only
// separator accepted.
func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func getDecimal(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return decimal.Zero, nil
	}
	val, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &model.ConfigError{Field: key, Reason: fmt.Sprintf("invalid decimal %q", raw)}
	}
	return val, nil
}

func getAddress(v *viper.Viper, key string) (common.Address, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, &model.ConfigError{Field: key, Reason: fmt.Sprintf("invalid address %q", raw)}
	}
	return common.HexToAddress(raw), nil
}

func parseTokenDecimals(raw map[string]string) (map[common.Address]uint8, error) {
	out := make(map[common.Address]uint8, len(raw))
	for key, value := range raw {
		if !common.IsHexAddress(key) {
			return nil, &model.ConfigError{Field: "token-decimals", Reason: fmt.Sprintf("invalid address %q", key)}
		}
		dec, err := strconv.ParseUint(strings.TrimSpace(value), 10, 8)
		if err != nil || dec > 77 {
			return nil, &model.ConfigError{Field: "token-decimals", Reason: fmt.Sprintf("invalid decimals %q for %s", value, key)}
		}
		out[common.HexToAddress(key)] = uint8(dec)
	}
	return out, nil
}

// parsePairThresholds keys overrides by the canonical pair key so both
// directions share one threshold.
func parsePairThresholds(raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for key, value := range raw {
		pair, err := model.ParsePair(key)
		if err != nil {
			return nil, &model.ConfigError{Field: "pair-thresholds", Reason: err.Error()}
		}
		threshold, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, &model.ConfigError{Field: "pair-thresholds", Reason: fmt.Sprintf("invalid threshold %q for %s", value, key)}
		}
		out[pair.Key()] = threshold
	}
	return out, nil
}

func parseRates(raw map[string]string) (map[common.Address]decimal.Decimal, error) {
	out := make(map[common.Address]decimal.Decimal, len(raw))
	for key, value := range raw {
		if !common.IsHexAddress(key) {
			return nil, &model.ConfigError{Field: "gas-price-rates", Reason: fmt.Sprintf("invalid address %q", key)}
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil || rate.IsNegative() {
			return nil, &model.ConfigError{Field: "gas-price-rates", Reason: fmt.Sprintf("invalid rate %q for %s", value, key)}
		}
		out[common.HexToAddress(key)] = rate
	}
	return out, nil
}

func parseBigInt(field, raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	val, ok := new(big.Int).SetString(raw, 0)
	if !ok || val.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return val, nil
}
