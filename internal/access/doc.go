// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

// Package access provides role-based authorization for BidMart.
//
// Roles form a fixed hierarchy: admin > seller > user. A Gate resolves the
// caller's stored role through a Directory on every check and authorizes the
// caller when its rank is at least the rank of the required role. A Policy
// maps "<collection>:<action>" keys to the role an operation requires.
package access
