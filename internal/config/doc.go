// Package config defines configuration structures for the ddsclient CLI.
//
// Configuration is layered, later sources winning:
//   - Built-in defaults
//   - Global YAML file (/etc/ddsclient.conf)
//   - User YAML file (DDSCLIENT_CONF or ~/.ddsclient)
//   - Environment variables (DDSCLIENT_ prefix, DUKE_DATA_SERVICE_AUTH)
//   - Command-line flags, applied with Merge
//
// # Example
//
//	url: https://api.dataservice.duke.edu/api/v1
//	agent_key: 0123
//	user_key: 4567
//	upload_bytes_per_chunk: 100MB
//	upload_workers: 8
//	retry:
//	  send_external_put_retry_times: 4
//	  send_external_retry_seconds: 20
//	  resource_not_consistent_max_wait: 10m
//
// Durations accept Go duration strings or a bare number of seconds.
package config
