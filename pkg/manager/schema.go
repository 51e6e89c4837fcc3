package manager

// SettingsSchema defines the JSON schema for the settings file
const SettingsSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"title": "go-site-cert-manager settings",
	"type": "object",
	"required": ["acme"],
	"additionalProperties": false,
	"properties": {
		"data_path": {
			"type": "string",
			"description": "Directory for managed certificate records and issued artifacts"
		},
		"renewal_interval_days": {
			"type": "integer",
			"minimum": 0,
			"description": "Renew a certificate once this many days have passed since its last renewal"
		},
		"ignore_stopped_sites": {
			"type": "boolean",
			"description": "Skip renewal for sites that are not running"
		},
		"enable_identifier_reuse": {
			"type": "boolean",
			"description": "Reuse still-valid prior domain authorizations"
		},
		"sites_config_path": {
			"type": "string",
			"description": "Site binding inventory used by the binding provider"
		},
		"trust_store_path": {
			"type": "string",
			"description": "Directory where installed certificates are kept"
		},
		"acme": {
			"type": "object",
			"required": ["directory_url", "email"],
			"additionalProperties": false,
			"properties": {
				"directory_url": {
					"type": "string",
					"format": "uri",
					"description": "ACME directory URL of the certificate authority"
				},
				"email": {
					"type": "string",
					"format": "email",
					"description": "Email address for CA registration and notifications"
				},
				"key_type": {
					"type": "string",
					"enum": ["rsa2048", "rsa3072", "rsa4096", "ec256", "ec384"],
					"description": "Key type for issued certificates"
				}
			}
		},
		"http_timeout": {
			"type": "string",
			"description": "Timeout for HTTP requests to the ACME server. Format: Go duration string"
		},
		"challenge_timeout": {
			"type": "string",
			"description": "Timeout for ACME challenges. Format: Go duration string"
		}
	}
}`
