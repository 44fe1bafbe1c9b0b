package main

import (
	"encoding/json"
	"fmt"
	"time"
)

func prettyJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

func fmtCost(usd float64, unpriced bool) string {
	switch {
	case unpriced:
		return "unpriced"
	case usd == 0:
		return "free"
	}
	return fmt.Sprintf("$%.4f", usd)
}

func fmtDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
