/*
Package refquery rewrites document filters so that reference fields can be
queried through the fields of the documents they point at.

A filter like

	{ "agent": { "name": "agent2" } }

on a bundle whose "agent" field references the Agent bundle is rewritten,
before the query executes, into

	{ "agent": ObjectID("...") }

by running a findOne against Agent. Array references resolve through find and
become { "$in": [ids...] }. Dotted keys ("agent.name") resolve the same way,
and each branch of a top-level $or is rewritten on its own.

Values that already address identifiers (an ObjectID, a 24-hex string, or an
object using $in, $nin or $exists) are left alone, so rewriting an already
rewritten filter changes nothing.

Rewriting is opt-in. A Plugin is active for every query when built with
IsActiveByDefault, or for a single query when its QueryOptions carry
UseFindWithinReference. Subqueries always carry that flag, so references
inside a sub-filter are resolved by the referenced bundle's own plugin.
*/
package refquery
