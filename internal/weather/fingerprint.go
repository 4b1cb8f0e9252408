package weather

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Fingerprint hashes the fingerprinted fields of an observation, in this
// order: temperature, feels-like, humidity, pressure, wind speed, summary,
// icon code, observed-at. The timestamp is hashed as its UTC instant, so the
// same moment in different zones yields the same digest.
func Fingerprint(o Observation) string {
	raw := strings.Join([]string{
		formatDecimal(o.Temperature),
		formatDecimal(o.FeelsLike),
		strconv.Itoa(o.Humidity),
		strconv.Itoa(o.Pressure),
		formatDecimal(o.WindSpeed),
		o.Summary,
		o.IconCode,
		o.ObservedAt.UTC().Format(time.RFC3339Nano),
	}, "|")

	sum := sha256.Sum256([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
