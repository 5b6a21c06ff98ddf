package games

// Players are split into two hidden teams: a small group of mafia, and everyone else as civilians
// Each player learns only their own role; mafia members additionally learn who the other mafia are
// The game alternates between day and night, and each phase ends with a short voting window

// Day:
// - Everyone discusses in the shared room chat
// - When voting opens, every living player may vote for the person they suspect
// - The player with the most votes is eliminated; a tie eliminates nobody

// Night:
// - Civilians are silenced; mafia chat privately among themselves
// - Only mafia votes count; the chosen victim is eliminated at dawn

// Winning:
// - Civilians win when every mafia member has been eliminated
// - Mafia win when they equal or outnumber the remaining civilians

// Implementation details:
// - Rooms are matched via /find (least crowded open room) or created via /new
// - Players are identified by cookie, so a page refresh rejoins the same seat
// - The room owner (first to join) is the only one who can start the game
// - Voting uses a player's position in the join-order list, -1 to abstain
