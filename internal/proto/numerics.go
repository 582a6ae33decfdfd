package proto

// Numeric replies the bot reacts to.
const (
	RPL_WELCOME  = "001"
	RPL_ENDOFWHO = "315"
	RPL_NOTOPIC  = "331"
	RPL_TOPIC    = "332"
	RPL_WHOREPLY = "352"
	RPL_NAMREPLY = "353"

	RPL_ENDOFNAMES = "366"

	ERR_NOSUCHCHANNEL   = "403"
	ERR_TOOMANYCHANNELS = "405"
	ERR_TOOMANYTARGETS  = "407"
	ERR_NICKNAMEINUSE   = "433"
	ERR_NEEDMOREPARAMS  = "461"
	ERR_CHANNELISFULL   = "471"
	ERR_INVITEONLYCHAN  = "473"
	ERR_BANNEDFROMCHAN  = "474"
	ERR_BADCHANNELKEY   = "475"
	ERR_BADCHANMASK     = "476"
)

// JoinSuccess are the replies that confirm a JOIN.
var JoinSuccess = []string{RPL_ENDOFNAMES, RPL_TOPIC}

// JoinFailure are the replies that reject a JOIN.
var JoinFailure = []string{
	ERR_CHANNELISFULL,
	ERR_INVITEONLYCHAN,
	ERR_BANNEDFROMCHAN,
	ERR_BADCHANNELKEY,
	ERR_NEEDMOREPARAMS,
	ERR_NOSUCHCHANNEL,
	ERR_BADCHANMASK,
	ERR_TOOMANYCHANNELS,
	ERR_TOOMANYTARGETS,
}
