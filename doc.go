// Package gridledger accounts the inventory of a grid trading bot as lots,
// and keeps it consistent with the exchange.
//
// The core functionalities include:
//   - Lot Store: every buy fill becomes a lot identified by its exchange trade
//     id. Lots are consumed by sells and closed, never deleted.
//   - Matcher: a sell is matched to the lot bought one grid step below its
//     price (spread-match), or to the oldest lots (FIFO). A sell no lot can
//     cover is recorded as unmatched and flagged, its profit is never guessed.
//   - Ledger: the append-only journal of sells. The total profit is always
//     the sum of the recorded entries.
//   - Reconciler: compares a book with the exchange trade history and balance,
//     and produces a report of bounded corrections that is applied atomically.
//
// A Book owns the lots and the ledger of one pair and serializes all their
// mutations. An Engine holds the books of several pairs.
//
// This package serves as the foundational logic for the `gls` command-line
// tool.
package gridledger
