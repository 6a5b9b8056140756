package service

// Alias tables are fixed at startup. Lookup walks the canonical alias order
// and probes the extracted field map directly, so resolution is a handful of
// map lookups rather than a rescan of every field.

var codeAliases = []string{
	"accountNumber",
	"account_no",
	"accountNo",
	"customerCode",
	"customer_code",
	"supplierCode",
	"supplier_code",
	"accountCode",
}

var nameAliases = []string{
	"supplierName",
	"supplier_name",
	"vendorName",
	"vendor_name",
	"companyName",
	"company_name",
	"accountName",
}

// firstAliasValue returns the first non-empty value among the aliases.
func firstAliasValue(fields map[string]string, aliases []string) string {
	for _, key := range aliases {
		if v := fields[key]; v != "" {
			return v
		}
	}
	return ""
}
