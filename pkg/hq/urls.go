package hq

import "fmt"

// URL builders for HQ's fixed REST paths. All paths are relative to the
// configured API base URL.

// IdentityURL returns the path of the identity lookup endpoint
func IdentityURL() string {
	return "api/v0.5/identity/"
}

// UserDomainRolesURL returns the path of the analytics-roles endpoint for a domain
func UserDomainRolesURL(domain string) string {
	return fmt.Sprintf("a/%s/api/v0.5/analytics-roles/", domain)
}

// DatasourceListURL returns the path listing a domain's UCR data sources
func DatasourceListURL(domain string) string {
	return fmt.Sprintf("a/%s/api/v0.5/ucr_data_source/", domain)
}

// DatasourceDetailsURL returns the path of a data source definition
func DatasourceDetailsURL(domain, datasourceID string) string {
	return fmt.Sprintf("a/%s/api/v0.5/ucr_data_source/%s/", domain, datasourceID)
}

// DatasourceExportURL returns the path of a data source CSV export
func DatasourceExportURL(domain, datasourceID string) string {
	return fmt.Sprintf(
		"a/%s/configurable_reports/data_sources/export/%s/?format=csv",
		domain, datasourceID,
	)
}

// DatasourceSubscribeURL returns the path for subscribing to data source changes
func DatasourceSubscribeURL(domain, datasourceID string) string {
	return fmt.Sprintf(
		"a/%s/configurable_reports/data_sources/subscribe/%s/",
		domain, datasourceID,
	)
}

// DatasourceUnsubscribeURL returns the path for unsubscribing from data source changes
func DatasourceUnsubscribeURL(domain, datasourceID string) string {
	return fmt.Sprintf(
		"a/%s/configurable_reports/data_sources/unsubscribe/%s/",
		domain, datasourceID,
	)
}
