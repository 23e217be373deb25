// Package accounts provides the identity and activation core for a blog
// site: credential hashing, single-use activation codes, registration
// and confirmation workflows, and session issuance.
//
// Identity model:
//   - Users own one or more e-mail addresses; addresses are globally
//     unique and start unconfirmed. Password login is gated on the
//     address being confirmed, so every account proves inbox control
//     before it can sign in.
//   - Activation codes are single-use and expire lazily: the window is
//     checked when a code is presented, never at issue time. Each code
//     is tagged with the workflow that issued it, so a confirmation
//     code can not be replayed against the password reset flow.
//
// Workflows:
//   - RegisterUserHandler, ConfirmEmailHandler, ResendActivationHandler,
//     and the password reset handlers are message-based commands that
//     run their writes in one transaction and notify after commit.
//   - Auther verifies credentials through an IdentityProvider and mints
//     HS256 session tokens; RouteAuthenticator moves those tokens in
//     and out of cookies and guards routes.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by Auther and
//     the workflow handlers to describe login, registration,
//     confirmation, and password reset events. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue
//     without blocking authentication.
//
// The social subpackage resolves OAuth provider profiles to local
// users; the manage subpackage is a capability-based admin gate for
// registered record types, with the blog subpackage providing the
// article types it manages.
package accounts
