package models

import (
	"strings"
	"time"
)

// legacyKinds maps kind names written by older clients to canonical kinds.
var legacyKinds = map[string]OpKind{
	"ronda-manual-full": KindManualRound,
	"peatonal-full":     KindPedestrian,
	"vehicular-full":    KindVehicle,
	"incidente-full":    KindIncident,
	"update":            KindFieldUpdate,
}

// legacyKeys renames top-level envelope keys.
var legacyKeys = map[string]string{
	"type":          "kind",
	"docPath":       "doc_path",
	"cliente":       "client",
	"unidad":        "unit",
	"puesto":        "site",
	"createdAt":     "created_at",
	"foto_base64":   "photo",
	"fotoEmbedded":  "photo",
	"fotoBase64":    "photo",
	"firma_base64":  "signature",
	"firmaEmbedded": "signature",
	"mediaPrefix":   "media_prefix",
}

// legacyMediaKeys are data fields that held embedded media.
var legacyMediaKeys = map[string]string{
	"foto":          "photo",
	"fotoBase64":    "photo",
	"fotoEmbedded":  "photo",
	"foto_base64":   "photo",
	"firma":         "signature",
	"firmaBase64":   "signature",
	"firmaEmbedded": "signature",
	"firma_base64":  "signature",
}

// normalizeLegacyOp rewrites a decoded queue entry into the canonical envelope
// shape. Canonical keys win over legacy ones when both are present.
func normalizeLegacyOp(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if _, legacy := legacyKeys[k]; !legacy {
			out[k] = v
		}
	}
	for old, canonical := range legacyKeys {
		if v, ok := raw[old]; ok && v != nil {
			if _, exists := out[canonical]; !exists {
				out[canonical] = v
			}
		}
	}

	if kind, ok := out["kind"].(string); ok {
		if mapped, ok := legacyKinds[kind]; ok {
			out["kind"] = string(mapped)
		} else if !isCanonicalKind(kind) && out["doc_path"] != nil {
			// Older clients tagged uploads with ad-hoc names such as
			// "incidencia-upload"; anything routed to a document is an update.
			out["kind"] = string(KindFieldUpdate)
		}
	}

	switch v := out["created_at"].(type) {
	case float64:
		out["created_at"] = time.UnixMilli(int64(v)).UTC().Format(time.RFC3339Nano)
	case nil:
		out["created_at"] = time.Time{}.Format(time.RFC3339Nano)
	}

	if data, ok := out["data"].(map[string]any); ok {
		for old, canonical := range legacyMediaKeys {
			s, ok := data[old].(string)
			if !ok {
				continue
			}
			if strings.HasPrefix(s, "data:") {
				if _, exists := out[canonical]; !exists {
					out[canonical] = s
				}
				delete(data, old)
			}
		}
		for _, pair := range [][2]string{{"cliente", "client"}, {"unidad", "unit"}, {"puesto", "site"}} {
			if _, exists := out[pair[1]]; exists {
				continue
			}
			if s, ok := data[pair[0]].(string); ok && s != "" {
				out[pair[1]] = s
			} else if s, ok := data[pair[1]].(string); ok && s != "" {
				out[pair[1]] = s
			}
		}
	}
	return out
}

func isCanonicalKind(k string) bool {
	switch OpKind(k) {
	case KindManualRound, KindPedestrian, KindVehicle, KindIncident, KindFieldUpdate:
		return true
	}
	return false
}
