// Package app composes the economy services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Accounts, catalog, payment and withdrawal records
//	├── storage/            # Store interfaces plus memory, postgres and mongo backends
//	├── services/           # Ledger, boosts, accounts, payments, withdrawals, leaderboard, jobs
//	├── httpapi/            # HTTP routing and handlers
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// Business rules live in services/; this package only wires them.
package app
