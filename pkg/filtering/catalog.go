// Package filtering classifies domains into blocklist categories.
package filtering

// SourceDefinition describes a built-in remote domain source.
type SourceDefinition struct {
	Name string
	URL  string
	// Format is empty when the file extension decides.
	Format string
}

// DefaultWhitelist is used when configuration provides no whitelist.
var DefaultWhitelist = []string{
	"*.stoplgbt.pl",
}

// DefaultCategories are the built-in category rules.
var DefaultCategories = []CategoryConfig{
	{
		Title:   "Blocks anime websites solely based on their addresses",
		Name:    "Anime",
		Pattern: `anime`,
		Output:  "anime/main.txt",
	},
	{
		Title:   "Blocks LGBT websites solely based on their addresses",
		Name:    "LGBTQ+",
		Pattern: `interseksualny|a(?:lloromantic|seksualn[ay])|genderfluid|(?:gender)?queer|t(?:rans(?:gender|sexual|exual)|wo-spirit)|(?:(?:(?:(?:poly|allo)|bi)|pan)|demi)sexual|(?:polyamor|nonbinar|ga)y|l(?:esbi(?:jka|an)|gbtq(?:ia|\+))|(?:bi|a)gender|lgbtq?|pride`,
		Output:  "sites/lgbtqplus2.txt",
	},
}

// Catalog lists the built-in newly registered domain sources, in processing order.
var Catalog = []SourceDefinition{
	{Name: "shreshta-labs_nrd-1w.txt", URL: "https://raw.githubusercontent.com/shreshta-labs/newly-registered-domains/main/nrd-1w.csv", Format: "csv"},
	{Name: "spaze_tld-cz.txt", URL: "https://github.com/spaze/domains/raw/main/tld-cz.txt"},

	{Name: "xRuffKez_nrd-30day-part1.txt", URL: "https://raw.githubusercontent.com/xRuffKez/NRD/main/nrd-30day_part1.txt"},
	{Name: "xRuffKez_nrd-30day-part2.txt", URL: "https://raw.githubusercontent.com/xRuffKez/NRD/main/nrd-30day_part2.txt"},

	{Name: "whoisds1.zip", URL: "https://whoisds.com/whois-database/newly-registered-domains/MjAyNC0wOC0xMi56aXA=/nrd"},
	{Name: "whoisds2.zip", URL: "https://whoisds.com/whois-database/newly-registered-domains/MjAyNC0wOC0xMS56aXA=/nrd"},
	{Name: "whoisds3.zip", URL: "https://whoisds.com/whois-database/newly-registered-domains/MjAyNC0wOC0xMC56aXA=/nrd"},
	{Name: "whoisds4.zip", URL: "https://whoisds.com/whois-database/newly-registered-domains/MjAyNC0wOC0wOS56aXA=/nrd"},

	{Name: "tb0hdan_generic-lgbt.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/generic_lgbt/domain2multi-lgbt00.txt.xz"},
	{Name: "tb0hdan_generic-gay.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/generic_gay/domain2multi-gay00.txt.xz"},

	{Name: "tb0hdan_domain2multi-de00.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de00.txt.xz"},
	{Name: "tb0hdan_domain2multi-de01.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de01.txt.xz"},
	{Name: "tb0hdan_domain2multi-de02.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de02.txt.xz"},
	{Name: "tb0hdan_domain2multi-de03.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de03.txt.xz"},
	{Name: "tb0hdan_domain2multi-de04.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de04.txt.xz"},
	{Name: "tb0hdan_domain2multi-de05.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de05.txt.xz"},
	{Name: "tb0hdan_domain2multi-de06.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de06.txt.xz"},
	{Name: "tb0hdan_domain2multi-de07.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/germany/domain2multi-de07.txt.xz"},

	{Name: "tb0hdan_domain2multi-pl00.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/poland/domain2multi-pl00.txt.xz"},
	{Name: "tb0hdan_domain2multi-pl01.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/poland/domain2multi-pl01.txt.xz"},
	{Name: "tb0hdan_domain2multi-pl02.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/poland/domain2multi-pl02.txt.xz"},

	{Name: "tb0hdan_domain2multi-us00.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/united_states/domain2multi-us00.txt.xz"},
	{Name: "tb0hdan_domain2multi-uk00.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/united_kingdom/domain2multi-uk00.txt.xz"},
	{Name: "tb0hdan_domain2multi-uk01.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/united_kingdom/domain2multi-uk01.txt.xz"},
	{Name: "tb0hdan_domain2multi-uk02.xz", URL: "https://github.com/tb0hdan/domains/raw/master/data/united_kingdom/domain2multi-uk02.txt.xz"},
}
