// Package protocol implements parsing and serialising the pipe delimited
// command lines exchanged between a client application and a device.
//
// === General Syntax
//
// - lines are `\n` delimited, an optional trailing `\r` is ignored
// - a line is a list of tokens separated by `|`
// - the first token is the verb, the last token is always `END`
// - verbs are case sensitive and uppercase
//
//   ```
//     <VERB>|<SUBVERB>|<field>...|END\n
//   ```
//
// Every command is parsed from its tokens (see Tokenize) into an immutable
// value. A token list that does not match the exact layout of the command
// is rejected with a *ParseError, an empty line with ErrEmptyCommand.
//
// === SESSION CREATE
//
// Sent by the client to open a session.
//
//  ```
//    > SESSION|CREATE|app_id=<appID>&consumer_key=<key>&secret=<signature>|<name>|END
//  ```
//
// The app key is form encoded. `<signature>` is the lowercase hex
// HMAC-SHA1 of the consumer key, keyed with the consumer secret. The secret
// itself never goes over the wire.
//
// === SUBSCRIBE / UNSUBSCRIBE
//
//  ```
//    > SUBSCRIBE|SERVICE|<service>|END
//    < SUBSCRIBED|SERVICE|<service>|END
//
//    > UNSUBSCRIBE|SERVICE|<service>|END
//    < UNSUBSCRIBED|SERVICE|<service>|END
//  ```
//
// Acknowledgements are pushed to every connection bound to the same session,
// so they can arrive unsolicited. A session is the pair of consumer key and
// name: any client that can sign for the consumer key may join it.
package protocol
