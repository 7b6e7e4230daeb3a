package domain

import "time"

// AutoReplyRule is a per-conversation override keyed by (package, identifier, type)
type AutoReplyRule struct {
	ID             int64          `json:"id"`
	PackageName    string         `json:"package_name"`
	Identifier     string         `json:"identifier"`
	IdentifierType IdentifierType `json:"identifier_type"`
	Disabled       bool           `json:"disabled"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AppSetting holds the per-app auto-reply switches
type AppSetting struct {
	PackageName            string `json:"package_name"`
	AppName                string `json:"app_name"`
	AutoReplyEnabled       bool   `json:"auto_reply_enabled"`
	AutoReplyGroupsEnabled bool   `json:"auto_reply_groups_enabled"`
}

// DefaultPolicy is the policy applied to a package the first time it is seen
type DefaultPolicy struct {
	PackageName      string `yaml:"package"`
	AppName          string `yaml:"app_name"`
	AutoReplyEnabled bool   `yaml:"auto_reply"`
}

// DefaultPolicies is the table of well-known packages.
// Packages missing from the table default to disabled.
type DefaultPolicies []DefaultPolicy

// BuiltinDefaultPolicies enables WhatsApp and WhatsApp Business only
var BuiltinDefaultPolicies = DefaultPolicies{
	{PackageName: "com.whatsapp", AppName: "WhatsApp", AutoReplyEnabled: true},
	{PackageName: "com.whatsapp.w4b", AppName: "WhatsApp Business", AutoReplyEnabled: true},
}

// Lookup finds the table entry for a package
func (p DefaultPolicies) Lookup(packageName string) (DefaultPolicy, bool) {
	for _, d := range p {
		if d.PackageName == packageName {
			return d, true
		}
	}
	return DefaultPolicy{}, false
}

// SettingFor builds the initial app setting for a newly discovered package
func (p DefaultPolicies) SettingFor(packageName, appName string) AppSetting {
	s := AppSetting{PackageName: packageName, AppName: appName}
	if d, ok := p.Lookup(packageName); ok {
		s.AutoReplyEnabled = d.AutoReplyEnabled
		if s.AppName == "" {
			s.AppName = d.AppName
		}
	}
	if s.AppName == "" {
		s.AppName = packageName
	}
	return s
}
