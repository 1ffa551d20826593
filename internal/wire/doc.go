// Package wire is the JSON envelope every client publishes on the shared topic.
//
//	{ "type": <MessageType>, "from": <player id>, "data": <payload> }
//
// gameState:
//
//	full Session snapshot (id, status, players, currentRound, secretChampion,
//	impostorId, roundTimer, discussionTime, votingTime, winner,
//	eliminatedPlayer, revision)
//
// playerJoined:
//
//	one Player
//
// playerLeft:
//
//	playerId: string
//
// players:
//
//	ordered Player list
//
// requestState:
//
//	playerId: string
//	playerName: string
//
// vote:
//
//	playerId: string
//	targetId: string
//
// Delivery is at-least-once and unordered; receivers must treat every message
// as possibly duplicated or stale.
package wire
