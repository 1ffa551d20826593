package engine

// Tally counts the vote targets of alive players. It reports the unique
// plurality target; any tie, including no votes at all, reports false.
func Tally(s Session) (string, bool) {
	counts := VoteCounts(s)

	best, max, tied := "", 0, false
	for _, p := range s.Players {
		c := counts[p.ID]
		switch {
		case c > max:
			best, max, tied = p.ID, c, false
		case c == max && c > 0:
			tied = true
		}
	}

	if max == 0 || tied {
		return "", false
	}
	return best, true
}

// VoteCounts maps target id to the number of alive players voting for it.
func VoteCounts(s Session) map[string]int {
	counts := make(map[string]int)
	for _, p := range s.Players {
		if p.IsAlive && p.VoteTarget != "" {
			counts[p.VoteTarget]++
		}
	}
	return counts
}

func checkWinner(s Session) Winner {
	alive := 0
	impostorAlive := false
	for _, p := range s.Players {
		if !p.IsAlive {
			continue
		}
		alive++
		if p.Role == RoleImpostor {
			impostorAlive = true
		}
	}

	if !impostorAlive {
		return WinnerChampions
	}
	if alive <= 2 {
		return WinnerImpostor
	}
	return WinnerNone
}
