// Package alerts evaluates threshold rules against every new analysis result
// and delivers webhook notifications when a rule starts or stops matching.
//
// Rules are "score <op> <value>" with op one of > >= < <= ==, for example
// "score > 0.8" to announce full sun at a camera. Each (rule, source) pair
// fires at most once per cooldown and resolves when the condition clears.
//
// Slack, Teams and Discord payloads carry the source name and coordinates,
// the score, and a link to /api/v1/analysis/{id} under alerts.public_url.
package alerts
