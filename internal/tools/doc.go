// Package tools aggregates the tools exposed by every upstream MCP server
// into a single namespace.
//
// Each server registers its tool list together with an Invoker that
// performs the actual call. Tool names are global: registering a tool that
// already belongs to another server fails with ErrToolCollision. Input
// schemas are compiled once at registration and arguments are validated
// before dispatch.
//
// Subscribers are notified after every change to the tool set.
package tools
