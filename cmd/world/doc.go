// Package world implements the world command group. All commands use a demo
// generator that builds layered terrain with small rooms, water pools and
// chests carrying unique ids, so worlds can be created and inspected without
// a game attached.
package world
