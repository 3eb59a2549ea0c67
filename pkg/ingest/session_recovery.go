package ingest

import "github.com/cuemby/chatvault/pkg/accounts"

// handleSessionLost handles a gateway session that could not be resumed
// and is about to re-identify from scratch, which means every
// guild it's a member of will arrive again as a fresh GUILD_CREATE. Any
// member fetch still outstanding on the old session has no continuation
// on the new one — its chunk sequence restarts at zero and nothing
// distinguishes an old chunk from a new one — so the partial set it had
// gathered is abandoned rather than resumed: cached_guild.member_user_ids
// goes back to nil, per the note on abandoned member fetches.
func (c *Controller) handleSessionLost(acc *accounts.Account) {
	for guildID, cg := range c.cache.Guilds {
		if acc.HasMemberRequest(guildID) {
			cg.MemberUserIDs = nil
		}
	}
}
