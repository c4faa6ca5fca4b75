package domain

// CDRRecord is one accepted row of a CDR file:
// date, imsi, msisdn, iccid, mcc, mnc, usage[, usage_charged].
type CDRRecord struct {
	RowNumber    int
	Date         string
	IMSI         string
	MSISDN       string
	ICCID        string
	MCC          string
	MNC          string
	Usage        int64
	UsageCharged int64
}

// ValidICCID accepts 19 or 20 digit identifiers carrying the E.118 "89" prefix.
func ValidICCID(iccid string) bool {
	if len(iccid) != 19 && len(iccid) != 20 {
		return false
	}
	if iccid[0] != '8' || iccid[1] != '9' {
		return false
	}
	for i := 0; i < len(iccid); i++ {
		if iccid[i] < '0' || iccid[i] > '9' {
			return false
		}
	}
	return true
}

// DistinctICCIDs returns the unique ICCIDs of records in first-seen order.
func DistinctICCIDs(records []CDRRecord) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if rec.ICCID == "" {
			continue
		}
		if _, ok := seen[rec.ICCID]; ok {
			continue
		}
		seen[rec.ICCID] = struct{}{}
		out = append(out, rec.ICCID)
	}
	return out
}
