// Package server exposes the agent registry over HTTP.
//
// Intake endpoints: POST /api/hook (lifecycle hook events, dispatched through
// a per-event-type handler table), POST /api/agent (REST create/update plus
// disconnect and clear-all), POST /api/task (task and status updates with
// counter side effects), and POST /api/log (free-form log lines with keyword
// status inference).
//
// Control endpoints: GET /health, POST /scan (one-shot process discovery),
// POST /config (sweep cadence), POST /reset (zero the counters).
//
// Push: GET /api/events streams every broadcast topic as Server-Sent Events,
// starting with the current agent list and counters so late joiners are not
// blank until the next tick.
//
// Each request broadcasts at most once per topic, after all of its mutations.
// Persistence is fire-and-forget: store failures are logged, never surfaced.
package server
