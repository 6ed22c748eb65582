package mcpserver

// LayoutContract describes the character asset layout and naming rules that
// LLM consumers should follow when referencing or importing images.
const LayoutContract = `# guildsync Asset Layout

Every character owns one directory: ` + "`" + `<target root>/<namespace>/<character>/` + "`" + `,
published at ` + "`" + `/assets/img/<namespace>/<character>/<file>` + "`" + `.

## File roles

- **Preserved** files have fixed names chosen per character, e.g. ` + "`" + `avatar.webp` + "`" + `,
  ` + "`" + `avatar_v2.webp` + "`" + `, ` + "`" + `novel_1.webp` + "`" + `, ` + "`" + `merch_showcase.webp` + "`" + `. Sync never renames or deletes them.
  Promotions overwrite them from a chosen intake photo.
- **Gallery** files are named ` + "`" + `<prefix>_<n>.webp` + "`" + ` (prefix defaults to ` + "`" + `gallery` + "`" + `).
  After every sync the indices are exactly 1..N with no gaps, and no two gallery
  files (or a gallery file and a preserved file) share content.
- Anything else in the directory is folded into the gallery by the next sync.

## Rules

1. New photos go to the intake folder (tool ` + "`" + `import_asset` + "`" + `), never straight into a
   character directory. Accepted intake formats: jpg, jpeg, png.
2. Run ` + "`" + `sync_character` + "`" + ` to convert intake photos to WebP, drop duplicates and renumber.
   Re-running sync with unchanged input changes nothing.
3. Gallery numbers are not stable across syncs: removing a duplicate shifts later
   images down. Prefer preserved names in page frontmatter, and run
   ` + "`" + `find_broken_refs` + "`" + ` after a sync.
4. ` + "`" + `renumber_gallery` + "`" + ` only closes gaps (e.g. after a manual deletion); it never
   imports or deduplicates.

## Example

` + "```" + `yaml
---
title: Damao
avatar: /assets/img/guild/damao/avatar_v2.webp
gallery:
  - /assets/img/guild/damao/gallery_1.webp
  - /assets/img/guild/damao/gallery_2.webp
---
` + "```" + `
`
