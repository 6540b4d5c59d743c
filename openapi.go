//go:generate go run github.com/swaggo/swag/v2/cmd/swag init --parseInternal --outputTypes json -g openapi.go -o .
package main

// @title         trapi-throttle api
// @version       1.0
// @description   A throttling, batching proxy in front of one or more TRAPI knowledge-provider endpoints.
//
// @contact.url   https://github.com/ranking-agent/trapi-throttle
//
// @license.name  MIT
// @license.url   https://opensource.org/license/mit/
//
// @servers       localhost:8788
