// Package realtime is the client core of a push-to-talk voice assistant built
// on a realtime speech API.
//
// A Controller owns at most one Conversation. A Conversation opens a
// Transport (WebRTC with an "oai-events" data channel, or a websocket
// authenticated by subprotocol tokens), sends one session.update, and then
// routes inbound events through a Dispatcher: text deltas build up the
// pending assistant message, audio deltas go to a PlaybackQueue, and
// PhoneNumber tool calls are answered with the digits spelled out in words.
// On the websocket transport, TurnControl streams microphone audio while the
// user holds the talk button and commits it on release.
//
// Short-lived credentials come from the companion server in package server.
package realtime
