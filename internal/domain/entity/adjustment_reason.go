package entity

import "strings"

// AdjustmentReason enumeración cerrada de motivos de ajuste.
type AdjustmentReason string

const (
	ReasonBreakage         AdjustmentReason = "BREAKAGE"
	ReasonTheft            AdjustmentReason = "THEFT"
	ReasonSpillage         AdjustmentReason = "SPILLAGE"
	ReasonDamage           AdjustmentReason = "DAMAGE"
	ReasonExpired          AdjustmentReason = "EXPIRED"
	ReasonLost             AdjustmentReason = "LOST"
	ReasonFound            AdjustmentReason = "FOUND"
	ReasonRecount          AdjustmentReason = "RECOUNT"
	ReasonSupplierError    AdjustmentReason = "SUPPLIER_ERROR"
	ReasonReturnToSupplier AdjustmentReason = "RETURN_TO_SUPPLIER"
	ReasonQualityControl   AdjustmentReason = "QUALITY_CONTROL"
	ReasonSampleUsed       AdjustmentReason = "SAMPLE_USED"
	ReasonWriteOff         AdjustmentReason = "WRITE_OFF"
)

var adjustmentReasons = map[AdjustmentReason]struct{}{
	ReasonBreakage: {}, ReasonTheft: {}, ReasonSpillage: {}, ReasonDamage: {},
	ReasonExpired: {}, ReasonLost: {}, ReasonFound: {}, ReasonRecount: {},
	ReasonSupplierError: {}, ReasonReturnToSupplier: {}, ReasonQualityControl: {},
	ReasonSampleUsed: {}, ReasonWriteOff: {},
}

// ParseAdjustmentReason normaliza (mayúsculas, sin espacios) y valida contra la enumeración.
func ParseAdjustmentReason(s string) (AdjustmentReason, bool) {
	r := AdjustmentReason(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := adjustmentReasons[r]
	return r, ok
}
