// Package bot contains the message classification and conversational state
// of the chat bot.
//
// A Bot is registered as a Listener with a chat transport. For every inbound
// message it:
//   - runs the Matcher, an ordered table of anchored, case-insensitive rules
//     that turn text into at most one command (first match wins);
//   - executes the matched command, producing exactly one reply;
//   - otherwise runs the responder: a name-drop check, the "me to same" and
//     "yeah" streak counters, the gratitude reaction and a chance-gated list
//     of flavor replies;
//   - records the message author as the previous author.
//
// Message handling is serialized by the Bot so the streak counters and the
// previous author are never observed half-updated. State lives only for the
// life of the process.
package bot
