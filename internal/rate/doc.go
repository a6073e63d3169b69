// Package rate implements rolling-window rate limits over Redis sorted
// sets. Each admitted event is a member scored by its timestamp in
// milliseconds; a window check prunes members older than the window,
// counts the rest and conditionally adds the new event inside one Lua
// script, so concurrent callers on any number of instances never race.
//
// Policies (what is limited and how hard) live in the calling packages.
package rate
